// Copyright 2024 SpooledFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/hanwen/go-fuse/v2/fuse"
	log "github.com/sirupsen/logrus"

	"spooledfs/internal/namespace"
	"spooledfs/internal/storage"
	"spooledfs/internal/util"
	"spooledfs/internal/vfs"
)

// Server owns one mount: its spool directory, its registry and the go-fuse
// server dispatching kernel requests to the adapter.
type Server struct {
	cfg MountConfig

	spool  *SpoolDir
	reg    *namespace.Registry
	fs     *vfs.SpooledFS
	server *fuse.Server

	closeOnce sync.Once
	closeErr  error
}

// NewServer creates a server for cfg. Nothing happens until Start.
func NewServer(cfg MountConfig) *Server {
	return &Server{cfg: cfg}
}

// Config returns the mount configuration.
func (s *Server) Config() MountConfig { return s.cfg }

// prepare sweeps stale spool directories and builds the spool directory,
// the registry and the adapter.
func (s *Server) prepare() error {
	if n, err := SweepStaleSpoolDirs(s.cfg.TmpDir); err != nil {
		log.Warnf("[daemon] failed to sweep %s: %v", s.cfg.TmpDir, err)
	} else if n > 0 {
		log.Infof("[daemon] removed %d stale spool directories", n)
	}

	spool, err := CreateSpoolDir(s.cfg.TmpDir)
	if err != nil {
		return err
	}
	s.spool = spool
	s.reg = namespace.NewRegistry(storage.SpoolConfig{Threshold: s.cfg.Threshold, Dir: spool.Path})
	s.fs = vfs.NewSpooledFS(s.reg, vfs.Options{
		EntryTimeout: s.cfg.EntryTimeout,
		AttrTimeout:  s.cfg.AttrTimeout,
	})
	return nil
}

// Start mounts the file system and returns once the kernel has
// acknowledged the mount. Requests are served in the background.
func (s *Server) Start() error {
	if err := s.prepare(); err != nil {
		return err
	}

	opts := &fuse.MountOptions{
		FsName:         "spooledfs",
		Name:           "spooledfs",
		AllowOther:     s.cfg.AllowOther,
		Debug:          s.cfg.FuseDebug,
		SingleThreaded: s.cfg.SingleThreaded,
		Options:        []string{"default_permissions"},
	}
	server, err := fuse.NewServer(s.fs, s.cfg.Mountpoint, opts)
	if err != nil {
		s.Close()
		return fmt.Errorf("failed to mount %s: %w", s.cfg.Mountpoint, err)
	}
	s.server = server

	go server.Serve()
	if err := server.WaitMount(); err != nil {
		server.Unmount()
		s.Close()
		return fmt.Errorf("mount %s did not come up: %w", s.cfg.Mountpoint, err)
	}

	log.Infof("[daemon] mounted %s (threshold %s, spool %s, single-threaded=%v)",
		s.cfg.Mountpoint, humanize.IBytes(uint64(s.cfg.Threshold)), s.spool.Path, s.cfg.SingleThreaded)
	return nil
}

// Wait blocks until the file system is unmounted.
func (s *Server) Wait() {
	if s.server != nil {
		s.server.Wait()
	}
}

// Stop unmounts the file system, retrying while the mount point is busy.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	err := util.Retry(ctx, s.server.Unmount, util.UnmountRetryOptions(ctx)...)
	if err != nil {
		return fmt.Errorf("failed to unmount %s: %w", s.cfg.Mountpoint, err)
	}
	return nil
}

// Close releases every handle, destroys the storage of every entity and
// removes the spool directory. It runs once; later calls return the
// first result.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.fs != nil {
			if n := s.fs.Handles().Clear(); n > 0 {
				log.Debugf("[daemon] dropped %d open handles", n)
			}
		}
		if s.reg != nil {
			errs = append(errs, s.reg.DestroyAll())
		}
		if s.spool != nil {
			errs = append(errs, s.spool.Remove())
		}
		s.closeErr = errors.Join(errs...)
		log.Infof("[daemon] released spool for %s", s.cfg.Mountpoint)
	})
	return s.closeErr
}

// Serve blocks until ctx is done or the mount goes away, then unmounts
// and cleans up. Start must have succeeded.
func (s *Server) Serve(ctx context.Context) error {
	unmounted := make(chan struct{})
	go func() {
		s.Wait()
		close(unmounted)
	}()

	var stopErr error
	select {
	case <-ctx.Done():
		log.Infof("[daemon] stopping %s: %v", s.cfg.Mountpoint, context.Cause(ctx))
		stopErr = s.Stop(context.Background())
		if stopErr == nil {
			<-unmounted
		}
	case <-unmounted:
		log.Infof("[daemon] %s was unmounted", s.cfg.Mountpoint)
	}

	return errors.Join(stopErr, s.Close())
}

// Run is Start followed by Serve.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	return s.Serve(ctx)
}
