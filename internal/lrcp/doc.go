// Package lrcp implements the Lost Robbers Communication Protocol: a
// reliable, ordered, session-oriented byte-stream transport layered over
// an unreliable UDP datagram channel, terminating in a line-reversal
// application.
package lrcp
