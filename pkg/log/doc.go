/*
Package log provides structured logging for batsimd using zerolog.

Call Init once at startup with the level and format resolved from CLI
flags, then use the package-level Logger or one of the With* helpers to
attach a machine, job, or submitter identifier to a line.
*/
package log
