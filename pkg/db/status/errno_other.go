//go:build !unix

package status

func classifyErrno(error) (SubCode, Severity, bool) {
	return SubNone, NoError, false
}
