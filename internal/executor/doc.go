/*
Package executor performs the HTTP calls of a load test and classifies their responses.

# Overview

The executor package provides:
  - A pooled HTTP client tuned for many concurrent virtual users
  - Per-user Clients bound to one API surface and one session
  - The response classifier shared by every scenario
  - Sample recording, one sample per call

# Authentication

Clients attach the session credential in one of two ways:
  - AuthBearer: Authorization header, injected by an oauth2.Transport
  - AuthAPIKey: X-Api-Key header, used by the code-execution sandbox

# Calls

Send returns a Call. The scenario inspects the status code, reads the body
(or the stream), and optionally decides the outcome:
  - Handle(op): run the classifier, mark the outcome, return the decoded body
  - Success / Failure(msg): mark the outcome explicitly
  - Close: record the sample (default outcome when nothing was decided)

Without an explicit decision a call succeeds when a response arrived with a
status below 400.

# Classification

Classify maps a status and body to either the decoded JSON value or a
*StatusError:
  - 2xx with valid JSON: decoded value
  - 2xx with invalid JSON: "Invalid JSON response in <op>"
  - anything else: "<op> failed: <reason> (<code>)"

Reasons are known for 400, 401, 403, 404, 429 and 500; other codes are
reported as "Unknown Error".

# Cancellation

A cancelled context stops new calls from being sent, but a call already in
flight runs to completion. Deadlines are honoured. The client timeout bounds
the whole exchange, including streaming bodies.
*/
package executor
