package calendar

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDoctorNotFound  = errors.New("doctor not found")
	ErrSlotNotFound    = errors.New("slot not found")
	ErrSlotUnavailable = errors.New("slot unavailable")
	ErrSlotOverlap     = errors.New("slot overlaps an existing slot")
)

// Store owns all slot state. It is the single synchronization point for slot
// mutation: one mutex per doctor schedule so contention on one doctor never
// blocks bookings for another.
type Store struct {
	mu        sync.RWMutex
	schedules map[uuid.UUID]*schedule
	slotIndex map[uuid.UUID]uuid.UUID // slot ID -> doctor ID
	holdTTL   time.Duration
}

type schedule struct {
	mu     sync.Mutex
	doctor Doctor
	slots  map[uuid.UUID]*Slot
	holds  map[uuid.UUID]hold
}

type hold struct {
	token    uuid.UUID
	deadline time.Time
}

func NewStore(holdTTL time.Duration) *Store {
	if holdTTL <= 0 {
		holdTTL = 30 * time.Second
	}
	return &Store{
		schedules: make(map[uuid.UUID]*schedule),
		slotIndex: make(map[uuid.UUID]uuid.UUID),
		holdTTL:   holdTTL,
	}
}

func (st *Store) AddDoctor(d Doctor) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.schedules[d.ID]; ok {
		return
	}
	st.schedules[d.ID] = &schedule{
		doctor: d,
		slots:  make(map[uuid.UUID]*Slot),
		holds:  make(map[uuid.UUID]hold),
	}
}

func (st *Store) ListDoctors() []Doctor {
	st.mu.RLock()
	defer st.mu.RUnlock()

	out := make([]Doctor, 0, len(st.schedules))
	for _, sc := range st.schedules {
		out = append(out, sc.doctor)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (st *Store) GetDoctor(doctorID uuid.UUID) (Doctor, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	sc, ok := st.schedules[doctorID]
	if !ok {
		return Doctor{}, ErrDoctorNotFound
	}
	return sc.doctor, nil
}

// AddSlots appends open slots to a doctor's schedule, rejecting any slot that
// would overlap an existing one. The whole batch is validated before anything
// is inserted, so a clash anywhere leaves the schedule untouched.
func (st *Store) AddSlots(doctorID uuid.UUID, slots []Slot) error {
	sc, err := st.scheduleFor(doctorID)
	if err != nil {
		return err
	}

	sc.mu.Lock()
	prepared := make([]Slot, 0, len(slots))
	for _, s := range slots {
		s.DoctorID = doctorID
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		if s.Status == "" {
			s.Status = SlotOpen
		}
		for _, existing := range sc.slots {
			if existing.Overlaps(s) {
				sc.mu.Unlock()
				return fmt.Errorf("%w: doctor %s at %s", ErrSlotOverlap, doctorID, s.StartTime)
			}
		}
		for i := range prepared {
			if prepared[i].Overlaps(s) {
				sc.mu.Unlock()
				return fmt.Errorf("%w: doctor %s at %s", ErrSlotOverlap, doctorID, s.StartTime)
			}
		}
		prepared = append(prepared, s)
	}
	for i := range prepared {
		copied := prepared[i]
		sc.slots[copied.ID] = &copied
	}
	sc.mu.Unlock()

	st.mu.Lock()
	for _, s := range prepared {
		st.slotIndex[s.ID] = doctorID
	}
	st.mu.Unlock()

	return nil
}

// ListSlots returns a snapshot of slots in [from, to) ordered by start time.
func (st *Store) ListSlots(doctorID uuid.UUID, from, to time.Time) ([]Slot, error) {
	sc, err := st.scheduleFor(doctorID)
	if err != nil {
		return nil, err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()

	var out []Slot
	for _, s := range sc.slots {
		if s.StartTime.Before(from) || !s.StartTime.Before(to) {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out, nil
}

func (st *Store) GetSlot(slotID uuid.UUID) (Slot, error) {
	sc, err := st.scheduleForSlot(slotID)
	if err != nil {
		return Slot{}, err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()

	s, ok := sc.slots[slotID]
	if !ok {
		return Slot{}, ErrSlotNotFound
	}
	return *s, nil
}

// TryHold atomically reserves an open slot. At most one caller can hold a
// slot; everyone else gets ErrSlotUnavailable until the hold is committed,
// released or expires.
func (st *Store) TryHold(slotID uuid.UUID, now time.Time) (HoldToken, error) {
	sc, err := st.scheduleForSlot(slotID)
	if err != nil {
		return HoldToken{}, err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()

	s, ok := sc.slots[slotID]
	if !ok {
		return HoldToken{}, ErrSlotNotFound
	}

	sc.expireHoldLocked(slotID, now)

	if s.Status != SlotOpen {
		return HoldToken{}, ErrSlotUnavailable
	}

	token := uuid.New()
	deadline := now.Add(st.holdTTL)
	s.Status = SlotHeld
	sc.holds[slotID] = hold{token: token, deadline: deadline}

	return HoldToken{SlotID: slotID, value: token, Deadline: deadline}, nil
}

// Commit promotes a held slot to booked. The token must match the live hold;
// a hold that already expired back to open cannot be committed.
func (st *Store) Commit(t HoldToken, now time.Time) error {
	sc, err := st.scheduleForSlot(t.SlotID)
	if err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()

	s, ok := sc.slots[t.SlotID]
	if !ok {
		return ErrSlotNotFound
	}

	h, held := sc.holds[t.SlotID]
	if !held || s.Status != SlotHeld || h.token != t.value || h.deadline.Before(now) {
		return ErrSlotUnavailable
	}

	s.Status = SlotBooked
	delete(sc.holds, t.SlotID)
	return nil
}

// Release returns a held or booked slot to open. Idempotent: releasing an
// already-open slot is a no-op. Blocked slots stay blocked.
func (st *Store) Release(slotID uuid.UUID) error {
	sc, err := st.scheduleForSlot(slotID)
	if err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()

	s, ok := sc.slots[slotID]
	if !ok {
		return ErrSlotNotFound
	}

	switch s.Status {
	case SlotHeld, SlotBooked:
		s.Status = SlotOpen
		delete(sc.holds, slotID)
	}
	return nil
}

// Block takes a slot off the schedule for staff use. Only open slots can be
// blocked; a held or booked slot must be released first.
func (st *Store) Block(slotID uuid.UUID) error {
	sc, err := st.scheduleForSlot(slotID)
	if err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()

	s, ok := sc.slots[slotID]
	if !ok {
		return ErrSlotNotFound
	}
	if s.Status != SlotOpen {
		return ErrSlotUnavailable
	}
	s.Status = SlotBlocked
	return nil
}

func (st *Store) Unblock(slotID uuid.UUID) error {
	sc, err := st.scheduleForSlot(slotID)
	if err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()

	s, ok := sc.slots[slotID]
	if !ok {
		return ErrSlotNotFound
	}
	if s.Status == SlotBlocked {
		s.Status = SlotOpen
	}
	return nil
}

// ExpireHolds sweeps every schedule for holds past their deadline and returns
// the slots to open. Returns the number of expired holds. Called periodically
// by the worker so a crashed caller cannot leak a held slot.
func (st *Store) ExpireHolds(now time.Time) int {
	st.mu.RLock()
	schedules := make([]*schedule, 0, len(st.schedules))
	for _, sc := range st.schedules {
		schedules = append(schedules, sc)
	}
	st.mu.RUnlock()

	expired := 0
	for _, sc := range schedules {
		sc.mu.Lock()
		for slotID := range sc.holds {
			if sc.expireHoldLocked(slotID, now) {
				expired++
			}
		}
		sc.mu.Unlock()
	}
	return expired
}

// BookedOverlapping counts booked slots overlapping the instant t on one
// doctor's schedule. Used by invariant checks: the count must never exceed 1.
func (st *Store) BookedOverlapping(doctorID uuid.UUID, t time.Time) (int, error) {
	sc, err := st.scheduleFor(doctorID)
	if err != nil {
		return 0, err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()

	n := 0
	for _, s := range sc.slots {
		if s.Status == SlotBooked && !t.Before(s.StartTime) && t.Before(s.EndTime()) {
			n++
		}
	}
	return n, nil
}

// RestoreBooked re-marks the open run covering [start, start+minutes) as
// booked and returns the covered slot IDs. Used when appointments are
// reloaded from persistence after the schedule grid has been re-imported.
func (st *Store) RestoreBooked(doctorID uuid.UUID, start time.Time, minutes int) ([]uuid.UUID, error) {
	sc, err := st.scheduleFor(doctorID)
	if err != nil {
		return nil, err
	}

	need := time.Duration(minutes) * time.Minute

	sc.mu.Lock()
	defer sc.mu.Unlock()

	ordered := make([]*Slot, 0, len(sc.slots))
	for _, s := range sc.slots {
		if s.StartTime.Before(start) || !s.StartTime.Before(start.Add(need)) {
			continue
		}
		ordered = append(ordered, s)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].StartTime.Before(ordered[j].StartTime)
	})

	cursor := start
	covered := time.Duration(0)
	var run []*Slot
	for _, s := range ordered {
		if !s.StartTime.Equal(cursor) {
			continue
		}
		if s.Status != SlotOpen {
			return nil, ErrSlotUnavailable
		}
		run = append(run, s)
		covered += s.Duration
		cursor = s.EndTime()
		if covered >= need {
			break
		}
	}
	if covered < need {
		return nil, ErrSlotNotFound
	}

	ids := make([]uuid.UUID, 0, len(run))
	for _, s := range run {
		s.Status = SlotBooked
		ids = append(ids, s.ID)
	}
	return ids, nil
}

func (sc *schedule) expireHoldLocked(slotID uuid.UUID, now time.Time) bool {
	h, ok := sc.holds[slotID]
	if !ok || !h.deadline.Before(now) {
		return false
	}
	if s, ok := sc.slots[slotID]; ok && s.Status == SlotHeld {
		s.Status = SlotOpen
	}
	delete(sc.holds, slotID)
	return true
}

func (st *Store) scheduleFor(doctorID uuid.UUID) (*schedule, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	sc, ok := st.schedules[doctorID]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return sc, nil
}

func (st *Store) scheduleForSlot(slotID uuid.UUID) (*schedule, error) {
	st.mu.RLock()
	doctorID, ok := st.slotIndex[slotID]
	if !ok {
		st.mu.RUnlock()
		return nil, ErrSlotNotFound
	}
	sc := st.schedules[doctorID]
	st.mu.RUnlock()
	return sc, nil
}
