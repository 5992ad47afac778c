package asyncrt

// Add, Remove, and Wait on osMultiplexer are implemented per platform:
//   - poller_linux.go (epoll)
//   - poller_darwin.go (kqueue)
//   - poller_windows.go (IOCP)
//
// Always call Remove (via Registration.Drop, through IoDriver) before
// closing a file descriptor, to prevent stale event delivery after FD
// recycling.
