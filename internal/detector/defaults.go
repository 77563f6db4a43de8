package detector

// defaultSets is the canonical built-in pattern inventory. The keyword table
// is the union of the keyword sets that historically drifted between scan
// paths; every scan path now uses this single table.
var defaultSets = map[Type]struct {
	keywords []string
	patterns []string
}{
	TypeOOM: {
		keywords: []string{
			"Out of memory",
			"oom-killer",
			"Killed process",
			"Memory cgroup out of memory",
		},
		patterns: []string{
			`(?:Out\s+of\s+memory|OOM).*?(?:kill|terminat).*?process.*?\d+`,
			`oom.*?killer.*?invoked.*?(?:gfp_mask|order)=\w+`,
			`(?:Killed|terminated).*?process.*?\d+.*?(?:total-vm|rss).*?\d+[kKmMgG]?B`,
			`Memory.*?cgroup.*?out.*?memory.*?(?:usage|limit).*?\d+`,
			`oom_score.*?\d+.*?pid.*?\d+.*?total_vm.*?\d+`,
			`page allocation failure.*?order.*?\d+`,
			`swap.*?full.*?cannot.*?swap.*?out`,
		},
	},
	TypeKernelPanic: {
		keywords: []string{
			"Kernel panic",
			"not syncing",
			"System halted",
			"sysrq triggered crash",
			"Unable to mount root",
		},
		patterns: []string{
			`kernel.*?panic.*?(?:not.*?syncing|System.*?halted)`,
			`panic.*?(?:CPU|PID).*?\d+.*?(?:not.*?syncing|System.*?halted)`,
			`sysrq.*?trigger.*?crash.*?Kernel.*?panic`,
			`(?:Unable to mount|Cannot mount).*?root.*?(?:filesystem|device)`,
			`VFS.*?mount.*?root.*?failed`,
			`end.*?Kernel.*?panic.*?(?:not.*?tty|sysrq)`,
		},
	},
	TypeUnexpectedReboot: {
		keywords: []string{
			"reboot",
			"booting",
			"unexpectedly shut down",
			"unexpected restart",
			"restart triggered by hardware",
		},
		patterns: []string{
			`(?:unexpected|unclean).*?(?:shut.*?down|restart|reboot)`,
			`system.*?(?:reboot|restart).*?(?:initiated|triggered)`,
			`(?:watchdog|hardware).*?trigger.*?(?:reboot|restart)`,
			`power.*?(?:failure|loss).*?shut.*?down`,
			`ACPI.*?enter.*?(?:S5|shutdown|reboot)`,
			`systemd.*?reboot.*?target.*?start`,
			`emergency.*?restart.*?initiated`,
		},
	},
	TypeFSError: {
		keywords: []string{
			"fs error",
			"I/O error",
			"filesystem corruption",
			"file system corruption",
			"EXT4-fs error",
			"XFS error",
			"superblock corrupt",
			"metadata corruption",
			"fsck needed",
			"Buffer I/O error",
		},
		patterns: []string{
			`(?:filesystem|file system).*?error.*?(?:corrupt|damage)`,
			`(?:EXT4|XFS|BTRFS|NTFS).*?(?:error|corruption).*?detected`,
			`I/O.*?error.*?dev.*?\w+.*?(?:sector|logical).*?\d+`,
			`(?:superblock|metadata).*?corrupt.*?(?:run.*?fsck|repair)`,
			`Buffer.*?I/O.*?error.*?dev.*?\w+.*?logical.*?\d+`,
			`journal.*?abort.*?I/O.*?error`,
			`fsck.*?needed.*?(?:filesystem|partition)`,
			`(?:read|write).*?error.*?sector.*?\d+.*?device.*?\w+`,
		},
	},
	TypeOops: {
		keywords: []string{
			"Oops:",
			"general protection fault",
			"kernel BUG at",
			"Unable to handle kernel",
			"BUG: unable to handle kernel",
			"WARNING: CPU:",
			"invalid opcode:",
			"stack segment:",
		},
		patterns: []string{
			`Oops.*?(?:general protection|GPF).*?IP.*?[\da-fA-Fx]+`,
			`kernel.*?BUG.*?at.*?[\w/]+\.(?:c|h):\d+`,
			`(?:Unable to handle|Cannot handle).*?(?:kernel|NULL).*?pointer`,
			`WARNING.*?CPU.*?\d+.*?PID.*?\d+.*?at.*?[\w/]+`,
			`BUG.*?unable.*?handle.*?(?:kernel|page).*?fault`,
			`invalid.*?opcode.*?IP.*?[\da-fA-Fx]+`,
			`general protection fault.*?ip:.*?[\da-fA-F]+.*?error:.*?\d+`,
			`divide.*?error.*?CPU.*?\d+.*?IP.*?[\da-fA-Fx]+`,
		},
	},
	TypeDeadlock: {
		keywords: []string{
			"deadlock",
			"recursive locking",
			"hung task",
			"task hung",
			"task blocked",
			"blocked for more than",
			"soft lockup",
			"hard lockup",
		},
		patterns: []string{
			`(?:possible|potential).*?deadlock.*?(?:detected|found)`,
			`INFO.*?task.*?blocked.*?more.*?\d+.*?seconds`,
			`(?:soft|hard).*?lockup.*?CPU.*?\d+.*?stuck.*?\d+`,
			`hung.*?task.*?state.*?[RD].*?blocked`,
			`Call.*?Trace.*?for.*?(?:mutex_lock|spin_lock)`,
			`detected.*?deadlock.*?between.*?\w+.*?and.*?\w+`,
			`lock.*?held.*?by.*?\w+.*?waiting.*?for.*?\w+`,
			`circular.*?dependency.*?detected`,
		},
	},
}
