// Package winsched registers tasks with the Windows Task Scheduler through
// its COM automation interface (Schedule.Service). It is only built on
// Windows.
package winsched
