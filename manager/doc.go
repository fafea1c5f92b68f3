// Package manager contains the composition root of the AgentHive runtime.
//
// A Manager owns one coordinator, one execution monitor and a set of agents.
// Registering an agent initializes it and makes it routable; agents that run
// supervised scripts are wired to the monitor automatically, so script
// failures loop back through the monitor's recovery and retry pipeline into
// the agent's command queue.
//
// The Manager exposes a uniform lifecycle surface (start, stop, restart,
// destroy; per agent or over the whole set) plus the aggregated status of the
// runtime. Messaging and workflow operations pass through to the coordinator
// unchanged.
//
// There is deliberately no package-level singleton: a Manager is explicitly
// constructed, passed by reference and closed by its owner, which keeps test
// runtimes isolated from each other.
package manager
