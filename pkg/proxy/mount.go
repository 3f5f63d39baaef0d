package proxy

import (
	"fmt"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/fuse/nodefs"
	"github.com/hanwen/go-fuse/v2/fuse/pathfs"

	"github.com/marmos91/gatefs/internal/logger"
	"github.com/marmos91/gatefs/pkg/apiclient"
)

// Server is a mounted proxy instance.
type Server struct {
	fs      *GateFS
	fuseSrv *fuse.Server
	hb      *heartbeater
}

// Mount wires the filesystem to the broker and mounts it. The returned
// server is serving once WaitMount returns; Serve blocks until unmount.
func Mount(cfg Config, metrics Metrics) (*Server, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var broker *apiclient.Client
	if cfg.Socket != "" {
		broker = apiclient.NewUnix(cfg.Socket)
	} else {
		broker = apiclient.New(cfg.BrokerHost, cfg.BrokerPort)
	}

	gfs := NewGateFS(cfg, broker, metrics)

	pnfs := pathfs.NewPathNodeFs(gfs, nil)
	conn := nodefs.NewFileSystemConnector(pnfs.Root(), nodefs.NewOptions())

	mountOpts := &fuse.MountOptions{
		AllowOther: cfg.AllowOther,
		Name:       "gatefs",
		FsName:     cfg.Root,
		Debug:      cfg.Debug,
	}

	srv, err := fuse.NewServer(conn.RawFS(), cfg.Mountpoint, mountOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to mount %q: %w", cfg.Mountpoint, err)
	}

	hb := newHeartbeater(gfs)
	hb.start()

	logger.Info("proxy mounted",
		"root", cfg.Root,
		"mountpoint", cfg.Mountpoint,
		"broker", brokerAddr(cfg),
		"release_on_flush", cfg.ReleaseOnFlush)

	return &Server{fs: gfs, fuseSrv: srv, hb: hb}, nil
}

func brokerAddr(cfg Config) string {
	if cfg.Socket != "" {
		return "unix:" + cfg.Socket
	}
	return fmt.Sprintf("%s:%d", cfg.BrokerHost, cfg.BrokerPort)
}

// Serve handles kernel requests until the filesystem is unmounted.
func (s *Server) Serve() {
	s.fuseSrv.Serve()
}

// WaitMount blocks until the kernel has completed the mount.
func (s *Server) WaitMount() error {
	return s.fuseSrv.WaitMount()
}

// Unmount detaches the filesystem and stops the heartbeater. Locks for
// still-open handles are left to the broker's lease to reclaim.
func (s *Server) Unmount() error {
	err := s.fuseSrv.Unmount()
	s.hb.close()
	if err != nil {
		return fmt.Errorf("failed to unmount: %w", err)
	}
	logger.Info("proxy unmounted", "mountpoint", s.fs.cfg.Mountpoint)
	return nil
}
