//go:build !race

package webauth

func passwordHashCost() int {
	return 14
}
