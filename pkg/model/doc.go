// Package model defines the shared vocabulary of the simulator: Job,
// Profile, Machine, MachineRange and Counters. Every other package
// operates on these types; none of them know about the socket protocol
// or the orchestrator's mailbox.
package model
