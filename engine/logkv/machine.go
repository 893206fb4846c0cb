package logkv

import (
	"fmt"

	"github.com/finchkb/nvstore/engine"
	"github.com/finchkb/nvstore/flash"
)

type opKind int

const (
	opMount opKind = iota
	opFormat
	opGet
	opPut
	opDelete
)

type phase int

const (
	// phaseStart is the state before the first step
	phaseStart phase = iota
	// phaseScan is waiting for the read of the current page
	phaseScan
	// phaseInvalidate is waiting for the state-byte program that
	// invalidates the old record
	phaseInvalidate
	// phaseReclaim is waiting for the erase of the current reclaim
	// candidate
	phaseReclaim
	// phaseFormatErase is waiting for the erase of the current page
	// during a format
	phaseFormatErase
	// phaseMarker is waiting for the format marker program
	phaseMarker
	// phaseDone is terminal
	phaseDone
)

// Step is the outcome of one call to Machine.Step. Exactly one of IO
// and Done is meaningful: a non-nil IO means the machine needs that
// flash operation performed and its result fed into the next Step
// call; Done means the logical operation reached a terminal outcome.
//
// A terminal outcome does not mean all I/O is finished: the machine
// may still hold queued writes it issued without waiting for them.
// Drivers must drain Machine.Trailing after the terminal step or the
// final buffered write is silently lost.
type Step struct {
	IO    *flash.IORequest
	Done  bool
	Value []byte
	Err   error
}

func needIO(request flash.IORequest) Step {
	return Step{IO: &request}
}

func done(value []byte, err error) Step {
	return Step{Done: true, Value: value, Err: err}
}

// Machine is the resumable state of one logical engine operation
// against the log-structured format. Its Step function is synchronous;
// it signals the flash I/O it needs through Step.IO and is re-invoked
// with the result until it reports a terminal outcome. One logical
// operation may need several page reads, erases and programs before
// completing.
type Machine struct {
	op    opKind
	key   uint64
	value []byte

	pageSize  int
	pageCount int

	phase phase
	page  int
	raw   [][]byte
	pages []pageInfo

	// invalidated remembers which entry the invalidate program
	// targeted so the parse info can be updated when it completes
	invalidatedPage  int
	invalidatedEntry entryInfo

	erase    []int
	eraseIdx int

	trailing []flash.IORequest
}

func newMachine(op opKind, key uint64, value []byte, pageSize, pageCount int) *Machine {
	return &Machine{
		op:        op,
		key:       key,
		value:     value,
		pageSize:  pageSize,
		pageCount: pageCount,
		raw:       make([][]byte, pageCount),
		pages:     make([]pageInfo, pageCount),
	}
}

// Trailing returns the flash writes the machine issued without
// awaiting completion. It is only meaningful after a terminal Step.
func (machine *Machine) Trailing() []flash.IORequest {
	return machine.trailing
}

// Step advances the machine. result carries the outcome of the I/O
// requested by the previous step; it is ignored on the first call.
func (machine *Machine) Step(result flash.IOResult) Step {
	if machine.phase == phaseStart {
		return machine.start()
	}

	if machine.phase == phaseDone {
		return done(nil, fmt.Errorf("machine already finished"))
	}

	if result.Err != nil {
		err := result.Err

		if machine.phase == phaseReclaim {
			err = fmt.Errorf("%w: page %d: %s", engine.ErrReclaimFailed, machine.erase[machine.eraseIdx], err.Error())
		}

		machine.phase = phaseDone

		return done(nil, err)
	}

	switch machine.phase {
	case phaseScan:
		return machine.stepScan(result)
	case phaseInvalidate:
		return machine.stepInvalidate()
	case phaseReclaim:
		return machine.stepReclaim()
	case phaseFormatErase:
		return machine.stepFormatErase()
	case phaseMarker:
		machine.phase = phaseDone

		return done(nil, nil)
	}

	return done(nil, fmt.Errorf("machine is in an unknown phase %d", machine.phase))
}

func (machine *Machine) start() Step {
	if machine.op == opFormat {
		machine.phase = phaseFormatErase
		machine.page = 0

		return needIO(flash.IORequest{Op: flash.OpErase, Page: 0})
	}

	if machine.op == opPut {
		if len(machine.value) > maxValueSize || entrySize(machine.value) > machine.pageSize {
			machine.phase = phaseDone

			return done(nil, engine.ErrNoSpace)
		}
	}

	machine.phase = phaseScan
	machine.page = 0

	return needIO(flash.IORequest{Op: flash.OpRead, Page: 0, Length: machine.pageSize})
}

func (machine *Machine) stepScan(result flash.IOResult) Step {
	machine.raw[machine.page] = result.Data
	machine.pages[machine.page] = parsePage(result.Data)
	machine.page++

	if machine.page < machine.pageCount {
		return needIO(flash.IORequest{Op: flash.OpRead, Page: machine.page, Length: machine.pageSize})
	}

	switch machine.op {
	case opMount:
		machine.phase = phaseDone

		return done(nil, machine.checkMounted())
	case opGet:
		machine.phase = phaseDone

		page, entry, ok := findLive(machine.pages, machine.key)

		if !ok {
			return done(nil, engine.ErrNotFound)
		}

		value, err := verifyEntry(machine.raw[page], entry)

		if err != nil {
			return done(nil, err)
		}

		result := make([]byte, len(value))
		copy(result, value)

		return done(result, nil)
	case opPut:
		if page, entry, ok := findLive(machine.pages, machine.key); ok {
			return machine.invalidate(page, entry)
		}

		return machine.reclaim()
	case opDelete:
		page, entry, ok := findLive(machine.pages, machine.key)

		if !ok {
			machine.phase = phaseDone

			return done(nil, engine.ErrNotFound)
		}

		return machine.invalidate(page, entry)
	}

	machine.phase = phaseDone

	return done(nil, fmt.Errorf("machine has an unknown op %d", machine.op))
}

func (machine *Machine) checkMounted() error {
	for _, info := range machine.pages {
		if info.corrupt {
			return engine.ErrCorrupted
		}
	}

	page, entry, ok := findLive(machine.pages, markerKey)

	if !ok {
		return engine.ErrCorrupted
	}

	value, err := verifyEntry(machine.raw[page], entry)

	if err != nil || string(value) != string(markerValue) {
		return engine.ErrCorrupted
	}

	return nil
}

func (machine *Machine) invalidate(page int, entry entryInfo) Step {
	machine.phase = phaseInvalidate
	machine.invalidatedPage = page
	machine.invalidatedEntry = entry

	return needIO(flash.IORequest{
		Op:     flash.OpWrite,
		Page:   page,
		Offset: entry.off,
		Data:   []byte{stateDead},
	})
}

func (machine *Machine) stepInvalidate() Step {
	markDead(machine.pages, machine.invalidatedPage, machine.invalidatedEntry)

	return machine.reclaim()
}

// reclaim computes the erase list and starts working through it, one
// erase per step.
func (machine *Machine) reclaim() Step {
	machine.erase = reclaimable(machine.pages)
	machine.eraseIdx = 0

	if len(machine.erase) == 0 {
		return machine.finishMutation()
	}

	machine.phase = phaseReclaim

	return needIO(flash.IORequest{Op: flash.OpErase, Page: machine.erase[0]})
}

func (machine *Machine) stepReclaim() Step {
	machine.pages[machine.erase[machine.eraseIdx]] = pageInfo{}
	machine.eraseIdx++

	if machine.eraseIdx < len(machine.erase) {
		return needIO(flash.IORequest{Op: flash.OpErase, Page: machine.erase[machine.eraseIdx]})
	}

	return machine.finishMutation()
}

// finishMutation completes a put or delete after reclamation. The
// put's append program is queued as trailing I/O rather than awaited:
// the machine reports success and relies on the driver to drain it.
func (machine *Machine) finishMutation() Step {
	machine.phase = phaseDone

	if machine.op == opDelete {
		return done(nil, nil)
	}

	target, ok := appendTarget(machine.pages, entrySize(machine.value), machine.pageSize)

	if !ok {
		return done(nil, engine.ErrNoSpace)
	}

	machine.trailing = append(machine.trailing, flash.IORequest{
		Op:     flash.OpWrite,
		Page:   target,
		Offset: machine.pages[target].free,
		Data:   encodeEntry(machine.key, machine.value),
	})

	return done(nil, nil)
}

func (machine *Machine) stepFormatErase() Step {
	machine.page++

	if machine.page < machine.pageCount {
		return needIO(flash.IORequest{Op: flash.OpErase, Page: machine.page})
	}

	machine.phase = phaseMarker

	return needIO(flash.IORequest{
		Op:   flash.OpWrite,
		Page: 0,
		Data: encodeEntry(markerKey, markerValue),
	})
}
