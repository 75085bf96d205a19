package datalog

import "sync"

// Entry accumulates the values sampled for one Pid over the life of a Log.
type Entry struct {
	PidID uint32

	mu   sync.Mutex
	data []float64
}

// Values returns a copy of every value sampled so far.
func (e *Entry) Values() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]float64, len(e.data))
	copy(out, e.data)
	return out
}

func (e *Entry) push(v float64) {
	e.mu.Lock()
	e.data = append(e.data, v)
	e.mu.Unlock()
}

// Observer is notified every time a new sample is added to an Entry.
type Observer func(entry *Entry, value float64)

// Log collects samples for a set of PIDs and notifies registered
// observers as they arrive.
//
// Ported from the original Rust Log/Entry pair in datalog.rs.
type Log struct {
	mu        sync.Mutex
	entries   map[uint32]*Entry
	observers []Observer
}

// NewLog creates an empty Log.
func NewLog() *Log {
	return &Log{entries: make(map[uint32]*Entry)}
}

// AddEntry registers pidID as a series this Log tracks and returns its Entry.
func (l *Log) AddEntry(pidID uint32) *Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry := &Entry{PidID: pidID}
	l.entries[pidID] = entry
	return entry
}

// Entry returns the Entry tracking pidID, or nil if it was never added.
func (l *Log) Entry(pidID uint32) *Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries[pidID]
}

// AddData appends value to pidID's entry and notifies every observer.
func (l *Log) AddData(pidID uint32, value float64) {
	l.mu.Lock()
	entry, ok := l.entries[pidID]
	observers := l.observers
	l.mu.Unlock()
	if !ok {
		return
	}

	entry.push(value)
	for _, cb := range observers {
		cb(entry, value)
	}
}

// Register adds an observer called on every AddData.
func (l *Log) Register(cb Observer) {
	l.mu.Lock()
	l.observers = append(l.observers, cb)
	l.mu.Unlock()
}
