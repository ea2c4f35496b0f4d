package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/buddysim/buddy"
	"golang.org/x/exp/slog"
)

const timestampLayout = "15:04:05.000"

// session executes script commands against one allocator, replacing it on resize
type session struct {
	out    io.Writer
	logger *slog.Logger
	quiet  bool

	allocator *buddy.Allocator
}

func newSession(out io.Writer, logger *slog.Logger, total int, quiet bool) (*session, error) {
	s := &session{
		out:    out,
		logger: logger,
		quiet:  quiet,
	}

	err := s.reset(total)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *session) reset(total int) error {
	allocator, err := buddy.New(s.logger, total, buddy.CreateOptions{
		EventSink: buddy.EventSinkFunc(s.printEvent),
	})
	if err != nil {
		return err
	}

	s.allocator = allocator
	return nil
}

func (s *session) printEvent(event buddy.Event) {
	s.printf("[%s] %s\n", event.Time.Format(timestampLayout), event.Message)
}

func (s *session) printf(format string, args ...any) {
	if !s.quiet {
		fmt.Fprintf(s.out, format, args...)
	}
}

// exec runs a single script line
func (s *session) exec(line string) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}

	fields := strings.Fields(line)
	command, args := fields[0], fields[1:]

	switch command {
	case "alloc":
		if len(args) != 2 {
			return errors.New("usage: alloc <owner> <size>")
		}
		size, err := parseInt("size", args[1])
		if err != nil {
			return err
		}

		_, err = s.allocator.Allocate(size, args[0])
		return err
	case "free":
		if len(args) != 1 {
			return errors.New("usage: free <owner>")
		}

		if !s.allocator.Deallocate(args[0]) {
			return errors.Newf("no allocation found for owner '%s'", args[0])
		}
		return nil
	case "stats":
		if len(args) != 0 {
			return errors.New("usage: stats")
		}

		s.printStats()
		return nil
	case "map":
		if len(args) != 0 {
			return errors.New("usage: map")
		}

		return s.printMap()
	case "validate":
		if len(args) != 0 {
			return errors.New("usage: validate")
		}

		return s.allocator.Validate()
	case "resize":
		if len(args) != 1 {
			return errors.New("usage: resize <total>")
		}
		total, err := parseInt("total", args[0])
		if err != nil {
			return err
		}

		return s.reset(total)
	default:
		return errors.Newf("unknown command '%s'", command)
	}
}

func parseInt(name, value string) (int, error) {
	number, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s '%s'", name, value)
	}
	return number, nil
}

func (s *session) printStats() {
	stats := s.allocator.Stats()
	s.printf("Allocated Space: %d\n", stats.AllocatedSpace)
	s.printf("Free Space: %d\n", stats.FreeSpace)
	s.printf("Internal Fragmentation: %d\n", stats.InternalFragmentation)
}

func (s *session) printMap() error {
	regions, err := s.allocator.Regions()
	if err != nil {
		return err
	}

	for _, region := range regions {
		if region.Free {
			s.printf("%6d  %6d  free\n", region.Address, region.Size)
			continue
		}
		s.printf("%6d  %6d  %s (%d)\n", region.Address, region.Size, region.Owner, region.RequestedSize)
	}

	freeLists := s.allocator.FreeLists()
	for size := s.allocator.TotalSize(); size >= 1; size >>= 1 {
		s.printf("Free Blocks (Size %d): %v\n", size, freeLists[size])
	}
	return nil
}
