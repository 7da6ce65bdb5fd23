package ui

import "fmt"

// Color functions for terminal output
var (
	Cyan   = colorize("\033[36m%s\033[0m")
	Yellow = colorize("\033[33m%s\033[0m")
	Red    = colorize("\033[31m%s\033[0m")
	Green  = colorize("\033[32m%s\033[0m")
	Dim    = colorize("\033[2m%s\033[0m")
)

// colorize returns a function that wraps text with ANSI color codes
func colorize(colorString string) func(string) string {
	return func(text string) string {
		return fmt.Sprintf(colorString, text)
	}
}

// PrintInfo prints a labeled info line
func PrintInfo(label, value string) {
	fmt.Printf("%s %s\n", Cyan(label+":"), value)
}

// PrintSuccess prints a success message
func PrintSuccess(msg string) {
	fmt.Println(Green(msg))
}

// PrintWarning prints a warning message
func PrintWarning(msg string) {
	fmt.Println(Yellow(msg))
}

// PrintError prints an error message
func PrintError(msg string) {
	fmt.Println(Red(msg))
}
