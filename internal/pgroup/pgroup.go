// Package pgroup places the shell at the head of its own process group so a
// single signal can reach the shell and every child it started.
package pgroup

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Group is a process group the shell can signal as a whole.
type Group struct {
	pgid int
	self bool
	log  *zap.Logger
}

// Init makes the calling process the leader of a new process group. Children
// inherit the group. Failing to create the group is not fatal: the failure
// is logged and the shell keeps the group it was started in.
func Init(log *zap.Logger) *Group {
	if log == nil {
		log = zap.NewNop()
	}
	if err := unix.Setpgid(0, 0); err != nil {
		log.Warn("create process group", zap.Error(err))
	}
	return &Group{pgid: unix.Getpgrp(), self: true, log: log}
}

// Of is the existing group pgid. The calling process is assumed not to
// belong to it.
func Of(pgid int, log *zap.Logger) *Group {
	if log == nil {
		log = zap.NewNop()
	}
	return &Group{pgid: pgid, self: pgid == unix.Getpgrp(), log: log}
}

func (g *Group) ID() int {
	return g.pgid
}

// Broadcast sends sig to every member of the group. When the shell is itself
// a member, sig is ignored by the shell first so the broadcast does not end
// the process sending it.
func (g *Group) Broadcast(sig syscall.Signal) error {
	if g.pgid <= 0 {
		return fmt.Errorf("broadcast %v: invalid process group %d", sig, g.pgid)
	}
	if g.self {
		signal.Ignore(os.Signal(sig))
	}
	if err := unix.Kill(-g.pgid, sig); err != nil {
		g.log.Error("shutdown broadcast failed", zap.Int("pgid", g.pgid), zap.Stringer("signal", sig), zap.Error(err))
		return fmt.Errorf("broadcast %v to group %d: %w", sig, g.pgid, err)
	}
	return nil
}
