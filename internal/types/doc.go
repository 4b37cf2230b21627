/*
Package types defines the data shared between the difyload packages.

# Per-user state

Every virtual user owns its state. Nothing here is shared between users, so
none of these types are synchronized.

Session:
  - Synthetic user id sent as "user" in request payloads
  - API key for the surface the user exercises
  - Default headers

Handles:
  - ConversationHandle: conversation and message ids from chat calls
  - WorkflowRunHandle: run and task ids from workflow calls
  - KnowledgeHandle: dataset, document, segment and batch ids
  - FileRegistry: uploaded file ids by category

Handles are set by successful calls and cleared by successful deletions.
Operations that depend on a handle do nothing while it is unset.

# Samples

Sample is the unit of measurement. Every request produces exactly one
sample, whether it succeeded, failed on status, or never got a response.
Scenario-level failures are recorded with the "ERROR" method.
*/
package types
