package cmd

import "fmt"

// plural formats a count with its noun. The plural form defaults to noun+"s"
// and can be overridden as a second form.
func plural(n int, noun string, pluralForm ...string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, noun)
	}
	p := noun + "s"
	if len(pluralForm) > 0 {
		p = pluralForm[0]
	}
	return fmt.Sprintf("%d %s", n, p)
}
