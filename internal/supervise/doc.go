// Package supervise keeps local child processes alive behind stable stream
// endpoints.
//
// A Process owns at most one OS child at a time. Callers drive it with Start,
// Stop and a periodic Monitor; Monitor probes the child without blocking and
// relaunches the identical command line after an unexpected exit. The writer
// returned by Stdin and the readers returned by Stdout and Stderr resolve the
// current child on every call, so references taken before a respawn keep
// working after it.
//
// A Group fans a single byte stream out to every member and delegates Monitor
// and Stop to each of them, attempting every member regardless of earlier
// failures and joining the resulting errors.
//
// Process group termination relies on setpgid and is only complete on unix
// hosts. On Windows the termination request reaches the direct child only.
package supervise
