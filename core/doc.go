// Package core defines the shared vocabulary of the drafting assistant: the
// streamed Event protocol, conversation Sessions and Messages, the closed
// Intent set, and the search record types exchanged with the patent search
// gateway. Higher layers (orchestrator, handlers, stores, transports) depend
// on core and never the other way around.
package core
