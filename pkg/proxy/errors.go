package proxy

import (
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/marmos91/gatefs/pkg/apiclient"
)

// statusFromBrokerErr maps a broker client error to the errno surfaced
// at the mount.
//
// A queue timeout becomes ETIMEDOUT so editors can distinguish "the
// path is contended" from real I/O failures; everything else is EIO.
// The proxy never silently retries: a failed operation under lock is
// reported, and the editor decides.
func statusFromBrokerErr(err error) fuse.Status {
	switch {
	case err == nil:
		return fuse.OK
	case apiclient.IsTimeout(err):
		return fuse.Status(syscall.ETIMEDOUT)
	case apiclient.IsLost(err):
		return fuse.EIO
	case apiclient.IsUnreachable(err):
		return fuse.EIO
	default:
		return fuse.EIO
	}
}

// outcomeFromBrokerErr labels an error for metrics.
func outcomeFromBrokerErr(err error) string {
	switch {
	case err == nil:
		return "ok"
	case apiclient.IsTimeout(err):
		return "timeout"
	case apiclient.IsLost(err):
		return "lost"
	default:
		return "error"
	}
}
