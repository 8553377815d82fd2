/*
Package subagent launches single stages of task work in an isolated
sandbox and returns structured results.

Three stage flavors exist, each with a tailored system prompt and
allowed-tool set:

  - CodeWriter: task prompt + project conventions; full read/write/bash
  - UnitTester: same environment; writes and runs tests
  - QATester: business spec and test commands only; read-only tools

The Dispatcher is stateless: retries, sequencing and concurrency
belong to the Team Lead. Two AgentRuntime implementations are provided:
CLIRuntime shells out to a local agent binary, APIRuntime drives a
bounded tool-use loop over the Anthropic Messages API with
sandbox-rooted tools. A missing runtime degrades every stage to a
failure result instead of crashing the engine.

A stage may end its reply with "BLOCKER: <question>" to request a human
decision; the dispatcher lifts that into Result.Question and the lead
suspends on a blocker wait-point.
*/
package subagent
