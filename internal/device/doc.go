// Package device abstracts the bench instruments behind small capability
// interfaces with two implementations each: hardware-backed (SCPI over a
// Transport) and simulated (killable mocks). Lifecycle managers decide
// mock-vs-real per call, probe the transport for matching hardware, and
// book-keep last-alive timestamps in the state store.
package device
