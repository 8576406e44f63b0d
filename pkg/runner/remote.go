package runner

import "strings"

// Boards are reflashed constantly, so host keys are never checked.
var sshOptions = []string{
	"-o LogLevel=ERROR",
	"-o UserKnownHostsFile=/dev/null",
	"-o StrictHostKeyChecking=no",
}

var rsyncBase = []string{"rsync", "-rcptD", "--exclude=.*", "--mkpath", "--no-links"}

// SSH returns the argv for running a remote command.
func SSH(args ...string) []string {
	argv := append([]string{"ssh"}, sshOptions...)
	return append(argv, args...)
}

// SCP returns the argv for copying files to a remote host.
func SCP(args ...string) []string {
	argv := append([]string{"scp"}, sshOptions...)
	return append(argv, args...)
}

// RsyncTransport is the single -e argument handed to rsync for network
// copies.
func RsyncTransport() string {
	return "-e ssh " + strings.Join(sshOptions, " ")
}

// NetRsync returns the argv for an rsync to a remote host.
func NetRsync(args ...string) []string {
	argv := append(append([]string(nil), rsyncBase...), RsyncTransport())
	return append(argv, args...)
}

// DiskRsync returns the argv for a local rsync.
func DiskRsync(args ...string) []string {
	argv := append([]string(nil), rsyncBase...)
	return append(argv, args...)
}
