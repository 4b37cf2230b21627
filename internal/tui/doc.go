/*
Package tui implements the live dashboard shown while a load test runs.

# Architecture

The dashboard follows the Bubble Tea Model-Update-View pattern:
  - model.go: state, polling and the program entry point
  - keys.go: keyboard handling
  - render.go: view rendering

The model polls the runner every 500ms for a copy of its statistics. It never
touches the runner's internals, so any type with GetStats, Done, Wait and Stop
can drive it.

# Keys

  - q, esc, ctrl+c: stop the run; in-flight calls finish before the program exits

The program exits by itself when the run reaches its duration.
*/
package tui
