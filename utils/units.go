package utils

import "strconv"

var siPrefixes = [...]string{"", "K", "M", "G", "T"}

// SiUnits 1234.5 with 2 decimals formats as "1.23 K"
func SiUnits(number float64, decimals int) string {
	var i int
	for i < len(siPrefixes)-1 && number >= 1000 {
		number /= 1000
		i++
	}
	return strconv.FormatFloat(number, 'f', decimals, 64) + " " + siPrefixes[i]
}
