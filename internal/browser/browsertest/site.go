// Package browsertest provides an in-memory booking site that implements
// browser.Surface, so the booking flow can be exercised without Chrome.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/court-scheduler/internal/browser"
	"github.com/example/court-scheduler/internal/config"
)

// ErrNoElement is returned when a target matches nothing on the current page.
var ErrNoElement = errors.New("browsertest: no such element")

// ErrTimeout is the default injected failure.
var ErrTimeout = errors.New("browsertest: timed out")

// Slot is one bookable court time. Every slot holds a single booking.
type Slot struct {
	Court  string
	Hour   int
	Minute int
	Full   bool

	mine bool
}

func (s *Slot) label() string {
	start := time.Date(2000, 1, 1, s.Hour, s.Minute, 0, 0, time.UTC)
	return start.Format("3:04 PM") + " - " + start.Add(time.Hour).Format("3:04 PM")
}

// Fault makes the next Times matching calls fail with Err. When After is set
// the call takes effect before failing, like a response lost in transit.
type Fault struct {
	Err   error
	Times int
	After bool
}

// Booking is a reservation held by the signed-in user.
type Booking struct {
	Court string
	Date  time.Time
	Hour  int
	Min   int
}

// Site is safe for concurrent use so tests can inspect it from other
// goroutines.
type Site struct {
	// OnFinalCheckout runs just before the final checkout is applied,
	// under no lock. Tests use it to let another actor take the slot.
	OnFinalCheckout func(s *Site)

	mu        sync.Mutex
	cfg       config.Site
	identity  string
	slots     map[string][]*Slot
	bookings  []Booking
	valid     map[string]bool
	renewable bool
	renewals  int
	faults    map[string]*Fault
	calls     []string

	page     string
	date     string
	selected *Slot
	step     int
	alert    string
	state    []byte
	authed   bool
}

func New(cfg config.Site) *Site {
	return &Site{
		cfg:      cfg,
		identity: "Member",
		slots:    map[string][]*Slot{},
		valid:    map[string]bool{},
		faults:   map[string]*Fault{},
	}
}

// AddSlots lists slots for day in display order. A day with no slots still
// gets a date button.
func (s *Site) AddSlots(day time.Time, slots ...Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := day.Format(time.DateOnly)
	if _, ok := s.slots[key]; !ok {
		s.slots[key] = nil
	}
	for i := range slots {
		sl := slots[i]
		s.slots[key] = append(s.slots[key], &sl)
	}
}

// SetFull marks a court's slot on day as taken by someone else.
func (s *Site) SetFull(day time.Time, court string, hour, minute int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sl := range s.slots[day.Format(time.DateOnly)] {
		if sl.Court == court && sl.Hour == hour && sl.Minute == minute {
			sl.Full = true
		}
	}
}

// AcceptSession makes state a valid session.
func (s *Site) AcceptSession(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.valid[state] = true
}

// ExpireSessions invalidates every session and drops the live sign-in.
func (s *Site) ExpireSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.valid = map[string]bool{}
	s.authed = false
}

// SetRenewable controls whether clicking sign-in silently restores a session.
func (s *Site) SetRenewable(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renewable = ok
}

// SignIn simulates the operator completing an interactive login.
func (s *Site) SignIn(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.valid[state] = true
	s.state = []byte(state)
	s.authed = true
}

func (s *Site) SetIdentity(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = name
}

// Inject registers a fault for key, which is a method name followed by its
// target, e.g. "Click #btnRegister" or "Navigate https://site/program".
func (s *Site) Inject(key string, f Fault) {
	if f.Err == nil {
		f.Err = ErrTimeout
	}
	if f.Times == 0 {
		f.Times = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[key] = &f
}

// AddBooking lists a booking the user already holds, made outside the
// flows under test.
func (s *Site) AddBooking(b Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings = append(s.bookings, b)
}

func (s *Site) Bookings() []Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Booking(nil), s.bookings...)
}

func (s *Site) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Count reports how many recorded calls equal key.
func (s *Site) Count(key string) int {
	n := 0
	for _, c := range s.Calls() {
		if c == key {
			n++
		}
	}
	return n
}

func (s *Site) Renewals() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renewals
}

// begin records the call and reports an injected fault, if any. The caller
// holds s.mu.
func (s *Site) begin(ctx context.Context, key string) (*Fault, error) {
	s.calls = append(s.calls, key)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, ok := s.faults[key]
	if !ok {
		return nil, nil
	}
	f.Times--
	if f.Times <= 0 {
		delete(s.faults, key)
	}
	if f.After {
		return f, nil
	}
	return nil, f.Err
}

func finish(f *Fault, err error) error {
	if err != nil {
		return err
	}
	if f != nil {
		return f.Err
	}
	return nil
}

func (s *Site) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.begin(ctx, "Navigate "+url)
	if err != nil {
		return err
	}
	s.date, s.selected, s.step, s.alert = "", nil, 0, ""
	switch url {
	case s.cfg.ProgramURL:
		s.page = "program"
	case s.cfg.BookingsURL:
		s.page = "bookings"
	default:
		s.page = "other"
	}
	return finish(f, nil)
}

func (s *Site) Fill(ctx context.Context, target, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.begin(ctx, "Fill "+target)
	return finish(f, err)
}

func (s *Site) Click(ctx context.Context, target string) error {
	key := "Click " + target
	if target == s.cfg.Selectors.FinalCheckout && s.OnFinalCheckout != nil {
		s.mu.Lock()
		ready := s.step == 3
		s.mu.Unlock()
		if ready {
			s.OnFinalCheckout(s)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.begin(ctx, key)
	if err != nil {
		return err
	}
	return finish(f, s.click(target))
}

func (s *Site) click(target string) error {
	sel := s.cfg.Selectors
	if s.page == "" {
		return ErrNoElement
	}
	switch target {
	case sel.CookieConsent:
		return nil
	case sel.SignIn:
		if s.authed {
			return ErrNoElement
		}
		if s.renewable {
			s.renewals++
			state := fmt.Sprintf("renewed-%d", s.renewals)
			s.valid[state] = true
			s.state = []byte(state)
			s.authed = true
		}
		return nil
	case sel.Register:
		return s.advance(0)
	case sel.ProceedToCheckout:
		return s.advance(1)
	case sel.Checkout:
		return s.advance(2)
	case sel.FinalCheckout:
		if err := s.advance(3); err != nil {
			return err
		}
		s.checkout()
		return nil
	}

	if s.page != "program" {
		return ErrNoElement
	}
	for key := range s.slots {
		day, _ := time.Parse(time.DateOnly, key)
		if target == fmt.Sprintf(sel.DateButton, day.Year(), int(day.Month()), day.Day()) {
			s.date, s.selected, s.step = key, nil, 0
			return nil
		}
	}
	if s.date == "" || !s.authed {
		return ErrNoElement
	}
	for i, sl := range s.slots[s.date] {
		if target == fmt.Sprintf(sel.SelectButton, i+1) {
			if sl.Full {
				return ErrNoElement
			}
			s.selected, s.step = sl, 0
			return nil
		}
	}
	return ErrNoElement
}

func (s *Site) advance(from int) error {
	if s.selected == nil || s.step != from || !s.authed {
		return ErrNoElement
	}
	s.step++
	return nil
}

func (s *Site) checkout() {
	sl := s.selected
	s.selected, s.step = nil, 0
	switch {
	case sl.mine:
		s.alert = "You are already registered for this program."
	case sl.Full:
		s.alert = "Sorry, this program is full."
	default:
		sl.Full, sl.mine = true, true
		day, _ := time.Parse(time.DateOnly, s.date)
		s.bookings = append(s.bookings, Booking{Court: sl.Court, Date: day, Hour: sl.Hour, Min: sl.Minute})
		s.alert = "Registration complete."
	}
}

func (s *Site) ExtractText(ctx context.Context, target string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.begin(ctx, "ExtractText "+target)
	if err != nil {
		return "", err
	}
	texts := s.texts(target)
	if len(texts) == 0 {
		return "", finish(f, ErrNoElement)
	}
	return texts[0], finish(f, nil)
}

func (s *Site) ExtractTexts(ctx context.Context, target string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.begin(ctx, "ExtractTexts "+target)
	if err != nil {
		return nil, err
	}
	return s.texts(target), finish(f, nil)
}

func (s *Site) texts(target string) []string {
	sel := s.cfg.Selectors
	if s.page == "" {
		return nil
	}
	switch target {
	case sel.Profile:
		if s.authed {
			return []string{"account_circle " + s.identity}
		}
	case sel.SignIn:
		if !s.authed {
			return []string{"Sign in"}
		}
	case sel.Alert:
		if s.alert != "" {
			return []string{s.alert}
		}
	case sel.SlotCard:
		if s.page != "program" || s.date == "" {
			return nil
		}
		out := make([]string, 0, len(s.slots[s.date]))
		for _, sl := range s.slots[s.date] {
			spots := "1 Spot Left"
			switch {
			case sl.mine:
				spots = "You are already registered"
			case sl.Full:
				spots = "No Spots Left"
			}
			out = append(out, sl.label()+"\nlocation_on "+sl.Court+"\n"+spots)
		}
		return out
	case sel.BookingCard:
		if s.page != "bookings" || !s.authed {
			return nil
		}
		bs := append([]Booking(nil), s.bookings...)
		sort.Slice(bs, func(i, j int) bool { return bs[i].Date.Before(bs[j].Date) })
		out := make([]string, 0, len(bs))
		for _, b := range bs {
			sl := Slot{Court: b.Court, Hour: b.Hour, Minute: b.Min}
			out = append(out, strings.Join([]string{b.Court, sl.label(), b.Date.Format("Mon"), b.Date.Format("Jan 2")}, "\n"))
		}
		return out
	}
	return nil
}

func (s *Site) CurrentSessionState(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.begin(ctx, "CurrentSessionState")
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), s.state...), finish(f, nil)
}

func (s *Site) LoadSessionState(ctx context.Context, state []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.begin(ctx, "LoadSessionState")
	if err != nil {
		return err
	}
	s.state = append([]byte(nil), state...)
	s.authed = s.valid[string(state)]
	return finish(f, nil)
}

var _ browser.Surface = (*Site)(nil)

// DefaultSite is the stock site configuration pointed at test URLs.
func DefaultSite() config.Site {
	site := config.Default().Site
	site.BaseURL = "https://courts.example.test"
	site.ProgramURL = site.BaseURL + "/program/tennis"
	site.BookingsURL = site.BaseURL + "/profile/registrations"
	return site
}
