package fault

import "errors"

// ErrGuestMemoryUnreadable is returned by a GuestBus read when the
// mapping is not resident. The caller skips the affected fault for
// the current event rather than aborting dispatch (spec.md §7).
var ErrGuestMemoryUnreadable = errors.New("fault: guest memory unreadable")

// ErrUnknownSite is returned when OnAccess receives a site value
// outside the InjectionSite enumeration (spec.md §7). OnAccess itself
// never returns this: it logs and returns nil, matching "emits a
// diagnostic and returns without mutation". faultdump.ParseSite wraps
// this sentinel when a site name is not recognised.
var ErrUnknownSite = errors.New("fault: unknown injection site")
