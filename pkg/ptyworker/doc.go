/*
Package ptyworker implements PtyWorker: one PTY-wrapped agent CLI child
process, its read/write tasks, and its CLI-specific prompt and activity
detection.

Worker owns the PTY master, the spawned command, and a read loop that
pumps output through verify.Buffer (for delivery verification) and a
bounded scrollback ring (for diagnostics), while watching for two kinds
of pattern match per a capability table keyed by CLIKind (profile.go):

  - Interactive prompts (bypass-permissions confirmations, model-switch
    menus, generic "press enter to continue") are auto-answered locally,
    each with a bare newline. The output chunk holding the prompt still
    goes through verify.Buffer like any other output.
  - Activity markers (tool-use tokens, thinking indicators) observed
    after a verified delivery signal that the agent is actually working
    on the injected message, not just that the terminal echoed it.

The child runs in its own session (setsid) so killing or releasing it
never propagates to the broker process, and a broker restart can still
locate it by PID along the reattach path in WorkerRegistry.
*/
package ptyworker
