// Package message defines the typed messages exchanged by participants of the
// oral-messages agreement protocol and their line-oriented wire format.
//
// # Wire format
//
// Every message travels as a single line of text:
//
//	round 1: <sender>:<value>
//	round 2: <sender>:SUMMARY:<observed1>:<value1>,<observed2>:<value2>,...
//
// Identifiers and values must not contain ':' or ',' and the literal SUMMARY is
// reserved. Encode always emits vector entries sorted by identifier so that the
// same vector always produces the same line.
package message
