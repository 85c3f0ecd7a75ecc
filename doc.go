// Package libio is a cross-platform-flavored asynchronous I/O runtime for
// Linux, organized around cooperatively scheduled tasks driven by an epoll
// readiness backend (and an io_uring completion backend for file I/O).
//
// Application code issues stream, listener and timer operations that look
// synchronous; under the hood the calling task suspends and is resumed once
// the event loop observes the corresponding readiness or completion event.
//
// See SPEC_FULL.md and DESIGN.md in the repository root for the full design
// rationale.
package libio
