package aiocompl

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/behrlich/go-aiocompl/internal/manager"
)

// ServeDebugSocket implements spec.md §6.2: a Unix domain socket
// serving line-delimited injecterror/injectdelay commands, gated by
// Config.EnableDebugHooks. Listening blocks until the socket is closed
// by Terminate or an I/O error; run it in its own goroutine.
func (s *Subsystem) ServeDebugSocket(path string) error {
	if !s.cfg.EnableDebugHooks {
		return NewError("ServeDebugSocket", CodeNotSupported, "debug hooks are disabled")
	}
	os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return WrapError("ServeDebugSocket", err)
	}

	s.debugMu.Lock()
	s.debugListener = ln
	s.debugMu.Unlock()

	go func() {
		<-s.ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return nil
		}
		go s.handleDebugConn(conn)
	}
}

func (s *Subsystem) handleDebugConn(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		reply := s.handleDebugCommand(line)
		fmt.Fprintln(conn, reply)
	}
}

func (s *Subsystem) findEndpointByName(name string) *manager.EndpointState {
	s.epMu.Lock()
	defer s.epMu.Unlock()
	for _, ep := range s.endpoints {
		if ep.state.Name == name {
			return ep.state
		}
	}
	return nil
}

// handleDebugCommand parses and executes one line of §6.2's debug
// protocol, returning the line to send back to the client.
func (s *Subsystem) handleDebugCommand(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "ERR empty command"
	}

	switch fields[0] {
	case "injecterror":
		return s.handleInjectError(fields[1:])
	case "injectdelay":
		return s.handleInjectDelay(fields[1:])
	default:
		return fmt.Sprintf("ERR unknown command %q", fields[0])
	}
}

// debugStatusCodes maps the numeric <statusCode> injecterror accepts
// to this module's ErrorCode set. The wire protocol carries a plain
// integer, not a category string, both because spec.md models
// <statusCode> on the original's numeric VERR_* status codes and
// because several ErrorCode values are multi-word strings that can't
// round-trip through the whitespace-delimited command line.
var debugStatusCodes = map[int]ErrorCode{
	1:  CodeBadArg,
	2:  CodeBadState,
	3:  CodeBusy,
	4:  CodeEOF,
	5:  CodeNotSupported,
	6:  CodeNotImplemented,
	7:  CodeNotFound,
	8:  CodeInsufficientResources,
	9:  CodeIOError,
	10: CodeDiskFull,
	11: CodeFileTooBig,
	12: CodeTimeout,
}

func (s *Subsystem) handleInjectError(args []string) string {
	if len(args) != 3 {
		return "ERR usage: injecterror read|write <filename> <statusCode>"
	}
	kindStr, filename, codeStr := args[0], args[1], args[2]

	ep := s.findEndpointByName(filename)
	if ep == nil {
		return fmt.Sprintf("No file with name %s found", filename)
	}

	statusCode, convErr := strconv.Atoi(codeStr)
	if convErr != nil {
		return "ERR statusCode must be an integer"
	}
	code, ok := debugStatusCodes[statusCode]
	if !ok {
		return fmt.Sprintf("ERR statusCode %d out of range", statusCode)
	}
	err := error(NewEndpointError("injected", ep.ID, code, "injected via debug socket"))

	switch kindStr {
	case "read":
		ep.InjectedErrorRead.Store(&err)
	case "write":
		ep.InjectedErrorWrite.Store(&err)
	default:
		return "ERR kind must be read or write"
	}
	return "OK"
}

func (s *Subsystem) handleInjectDelay(args []string) string {
	if len(args) < 3 {
		return "ERR usage: injectdelay read|write|flush|any <filename> <msDelay> [msJitter] [nReqs]"
	}
	kindStr, filename, msDelayStr := args[0], args[1], args[2]

	ep := s.findEndpointByName(filename)
	if ep == nil {
		return fmt.Sprintf("No file with name %s found", filename)
	}

	var kind manager.DelayKind
	switch kindStr {
	case "read":
		kind = manager.DelayRead
	case "write":
		kind = manager.DelayWrite
	case "flush":
		kind = manager.DelayFlush
	case "any":
		kind = manager.DelayAny
	default:
		return "ERR kind must be read, write, flush, or any"
	}

	msDelay, err := strconv.Atoi(msDelayStr)
	if err != nil {
		return "ERR msDelay must be an integer"
	}

	msJitter := 0
	nReqs := -1
	if len(args) > 3 {
		if msJitter, err = strconv.Atoi(args[3]); err != nil {
			return "ERR msJitter must be an integer"
		}
	}
	if len(args) > 4 {
		if nReqs, err = strconv.Atoi(args[4]); err != nil {
			return "ERR nReqs must be an integer"
		}
	}

	spec := &manager.DelaySpec{
		Kind:   kind,
		Delay:  time.Duration(msDelay) * time.Millisecond,
		Jitter: time.Duration(msJitter) * time.Millisecond,
	}
	spec.Remaining.Store(int32(nReqs))
	ep.InjectedDelay.Store(spec)
	return "OK"
}
