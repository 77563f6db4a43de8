package detector

// Type identifies one of the kernel fault categories the system recognizes.
type Type string

const (
	TypeOOM              Type = "oom"
	TypeKernelPanic      Type = "kernel_panic"
	TypeUnexpectedReboot Type = "unexpected_reboot"
	TypeFSError          Type = "fs_error"
	TypeOops             Type = "oops"
	TypeDeadlock         Type = "deadlock"
)

// AllTypes returns the taxonomy in a stable order.
func AllTypes() []Type {
	return []Type{
		TypeOOM,
		TypeKernelPanic,
		TypeUnexpectedReboot,
		TypeFSError,
		TypeOops,
		TypeDeadlock,
	}
}

// ValidType reports whether s names a known anomaly type.
func ValidType(s string) bool {
	switch Type(s) {
	case TypeOOM, TypeKernelPanic, TypeUnexpectedReboot, TypeFSError, TypeOops, TypeDeadlock:
		return true
	}
	return false
}

// Severity is the fixed impact grade derived from the anomaly type.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

// SeverityFor maps an anomaly type to its severity. The table is fixed:
// kernel panics are critical, oops are minor, everything else is major.
func SeverityFor(t Type) Severity {
	switch t {
	case TypeKernelPanic:
		return SeverityCritical
	case TypeOops:
		return SeverityMinor
	case TypeOOM, TypeUnexpectedReboot, TypeFSError, TypeDeadlock:
		return SeverityMajor
	}
	return SeverityMinor
}

// Mode selects how lines are matched against a detector's pattern sets.
type Mode string

const (
	ModeKeyword Mode = "keyword"
	ModeRegex   Mode = "regex"
	ModeMixed   Mode = "mixed"
)

// ParseMode returns the mode named by s, or ModeMixed for anything unknown.
func ParseMode(s string) Mode {
	switch Mode(s) {
	case ModeKeyword, ModeRegex, ModeMixed:
		return Mode(s)
	}
	return ModeMixed
}

// EnabledSet is the set of detector types a scan pass should run.
type EnabledSet map[Type]bool

// NewEnabledSet builds an EnabledSet from config detector names. Unknown
// names are ignored.
func NewEnabledSet(names []string) EnabledSet {
	set := make(EnabledSet, len(names))
	for _, n := range names {
		if ValidType(n) {
			set[Type(n)] = true
		}
	}
	return set
}
