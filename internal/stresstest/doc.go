/*
Package stresstest runs virtual users against the platform and aggregates
what they record.

# Overview

The stresstest package provides:
  - A spawner that starts users at a fixed rate
  - One goroutine per virtual user looping over its domain's scenario
  - A single collector goroutine fed by a sample channel
  - Per-endpoint latency metrics and a failure table
  - Threshold evaluation and run history persistence

# Architecture

1. Config (config.go): run shape, validation and user planning
2. Executor (executor.go): spawning, user loops, sample collection
3. Stats (stats.go): live counters and percentiles for progress display
4. Report (report.go): per-endpoint summary built from vegeta metrics
5. Verdict (verdict.go): threshold checks and exit code
6. Manager (manager.go): SQLite persistence of runs and samples

# Users

API users rotate over the API domains of the scenario and sandbox users
over the sandbox domain. Each user owns its session, client and handles.
Between turns a user sleeps a random time from its domain's wait range.

In sequence mode a turn is the domain's composite sequence. In weighted mode
a turn is one task picked by weight.

# Samples

Every call records exactly one sample through the client's recorder. The
collector updates Stats, the endpoint aggregates, the optional Prometheus
collector, and buffers rows for batched inserts.

Scenario errors arrive as "ERROR" samples. They count as failed requests and
carry no latency.

# Cancellation

A run stops when its duration elapses or Stop is called. Stopping cancels
the users' context: no new call starts, calls in flight run to completion
and are recorded, then the collector drains and the run is finalized.

# Example Usage

	manager, err := NewManager(config.DatabasePath)
	if err != nil {
		return err
	}
	defer manager.Close()

	exec, err := NewExecutor(&ExecutionConfig{
		Config: &Config{
			Scenario:  "chat",
			Mode:      scenario.ModeSequence,
			APIUsers:  10,
			SpawnRate: 2,
			Duration:  time.Minute,
		},
		Targets: targets,
	}, manager)
	if err != nil {
		return err
	}

	exec.Start()
	report := exec.Wait()
	os.Exit(report.Verdict.ExitCode(false))
*/
package stresstest
