package parser

import "strconv"

var descriptions = map[int]string{
	// Security
	4624: "An account was successfully logged on",
	4625: "An account failed to log on",
	4634: "An account was logged off",
	4648: "A logon was attempted using explicit credentials",
	4672: "Special privileges assigned to new logon",
	4673: "A privileged service was called",
	4688: "A new process has been created",
	4689: "A process has exited",
	4720: "A user account was created",
	4722: "A user account was enabled",
	4723: "An attempt was made to change an account's password",
	4724: "An attempt was made to reset an account's password",
	4725: "A user account was disabled",
	4726: "A user account was deleted",
	4732: "A member was added to a security-enabled local group",
	4733: "A member was removed from a security-enabled local group",
	4740: "A user account was locked out",
	4767: "A user account was unlocked",
	4768: "A Kerberos authentication ticket (TGT) was requested",
	4769: "A Kerberos service ticket was requested",
	4771: "Kerberos pre-authentication failed",
	4776: "The domain controller attempted to validate credentials",

	// System
	1074: "System has been shutdown by a process/user",
	6005: "The Event log service was started",
	6006: "The Event log service was stopped",
	6008: "The previous system shutdown was unexpected",

	// Application
	1000: "Application Error",
	1001: "Application Hang",
	1002: "Application crashed",
}

// Describe returns a short description of a well-known event code.
func Describe(code int) string {
	if d, ok := descriptions[code]; ok {
		return d
	}
	return "Event ID " + strconv.Itoa(code)
}
