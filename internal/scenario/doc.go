/*
Package scenario defines what virtual users do.

Each behavior domain (chat, workflow, knowledge, file, sandbox, health, and
the message-only chatflow_sandbox) is a Domain with:
  - a weighted task table, used by weighted mode and printed by "difyload scenarios"
  - a PerformAll sequence that chains the operations with guard conditions
  - per-user state (conversation, run, knowledge and upload handles)

Operations that need an id make no request while it is unset. Deletions and
stops clear the ids they invalidate when the platform confirms them.

# Failures

Per-call failures are samples: the executor records one per request with
the outcome the operation decided. Anything else (an unbuildable request, a
panic) is caught by PerformAll or Perform, logged with the domain name and
recorded as an ERROR sample named "<domain>_tasks". The virtual user keeps
running either way.
*/
package scenario
