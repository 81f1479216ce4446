// Package logx is a thin structured-logging layer over zerolog.
//
// It exists so components can take a Logger value without caring about
// sink configuration, and so sinks can be swapped live (Service.Apply)
// while derived loggers keep working.
package logx
