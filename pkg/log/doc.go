/*
Package log provides structured logging for mdserver using zerolog.

Init configures the global logger once at startup (level, console or JSON
output, optional log file); packages then derive child loggers with
WithComponent so that every line carries the component that emitted it.
*/
package log
