package mocks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/arkos-project/arkimage/internal/constants"
)

// FakeCapability records every call and fails on demand. Nothing touches the host.
type FakeCapability struct {
	mu sync.Mutex

	Device string
	// NoPartitionNode makes Exists report the p1 node as missing.
	NoPartitionNode bool

	AllocateErr  error
	PartitionErr error
	AttachErr    error
	DetachErr    error
	// FormatErrs maps a tool name to the error it returns.
	FormatErrs map[string]error
	MountErr   error
	UnmountErr error
	// OnMount runs after a successful mount, tests use it to break the staging step.
	OnMount func(target string)

	Allocated     map[string]int64
	Partitioned   []string
	Attached      []string
	Detached      []string
	Formatted     []string
	FormatTools   []string
	MountedDevice []string
	Mounted       []string
	Unmounted     []string
}

func NewFakeCapability() *FakeCapability {
	return &FakeCapability{
		Device:     "/dev/loop7",
		FormatErrs: map[string]error{},
		Allocated:  map[string]int64{},
	}
}

func (f *FakeCapability) Allocate(path string, size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if size <= 0 {
		return constants.ErrInvalidSize
	}
	if f.AllocateErr != nil {
		return f.AllocateErr
	}
	f.Allocated[path] = size
	return nil
}

func (f *FakeCapability) Partition(_ context.Context, image string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PartitionErr != nil {
		return f.PartitionErr
	}
	f.Partitioned = append(f.Partitioned, image)
	return nil
}

func (f *FakeCapability) Attach(_ context.Context, image string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AttachErr != nil {
		return "", f.AttachErr
	}
	if len(f.Attached) > len(f.Detached) {
		return "", constants.ErrAlreadyAttached
	}
	f.Attached = append(f.Attached, image)
	return f.Device, nil
}

func (f *FakeCapability) Detach(_ context.Context, device string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Detached = append(f.Detached, device)
	return f.DetachErr
}

func (f *FakeCapability) Exists(device string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if device == f.Device {
		return true
	}
	return device == f.Device+constants.PartitionSuffix && !f.NoPartitionNode
}

func (f *FakeCapability) Format(_ context.Context, tool, device string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FormatTools = append(f.FormatTools, tool)
	if err := f.FormatErrs[tool]; err != nil {
		return err
	}
	f.Formatted = append(f.Formatted, device)
	return nil
}

func (f *FakeCapability) Mount(_ context.Context, device, target string) error {
	f.mu.Lock()
	if f.MountErr != nil {
		f.mu.Unlock()
		return f.MountErr
	}
	f.MountedDevice = append(f.MountedDevice, device)
	f.Mounted = append(f.Mounted, target)
	hook := f.OnMount
	f.mu.Unlock()
	if hook != nil {
		hook(target)
	}
	return nil
}

func (f *FakeCapability) Unmount(_ context.Context, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Unmounted = append(f.Unmounted, target)
	return f.UnmountErr
}

// ErrInjected is what tests hand to the fake when any error will do.
var ErrInjected = errors.New("injected failure")

func Injected(what string) error {
	return fmt.Errorf("%s: %w", what, ErrInjected)
}

// FakeRunner records commands and answers from a table keyed by the command name.
type FakeRunner struct {
	mu       sync.Mutex
	Commands [][]string
	Outputs  map[string]string
	Errors   map[string]error
}

func NewFakeRunner() *FakeRunner {
	return &FakeRunner{Outputs: map[string]string{}, Errors: map[string]error{}}
}

func (r *FakeRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Commands = append(r.Commands, append([]string{name}, args...))
	key := name
	if len(args) > 0 {
		key = name + " " + args[0]
	}
	if err, ok := r.Errors[key]; ok {
		return r.Outputs[key], err
	}
	if err, ok := r.Errors[name]; ok {
		return r.Outputs[name], err
	}
	if out, ok := r.Outputs[key]; ok {
		return out, nil
	}
	return r.Outputs[name], nil
}
