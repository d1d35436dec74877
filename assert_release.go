//go:build !tracelog_debug

package tracelog

const debugAssertions = false
