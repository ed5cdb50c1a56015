// Package watch re-runs gate evaluations when evidence files change or on
// a cron schedule.
//
// FileWatcher uses fsnotify on the directories holding the evidence files
// and debounces bursts of writes into a single callback. Scheduler wraps
// robfig/cron for periodic runs.
package watch
