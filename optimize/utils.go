package optimize

import (
	"bufio"
	"strconv"
	"strings"
)

// ReadFloats converts a string of floats separated by whitespace or
// commas into slice of float64.
func ReadFloats(s string) ([]float64, error) {
	r := strings.NewReader(strings.Replace(s, ",", " ", -1))
	scanner := bufio.NewScanner(r)
	scanner.Split(bufio.ScanWords)
	var result []float64
	for scanner.Scan() {
		x, err := strconv.ParseFloat(scanner.Text(), 64)
		if err != nil {
			return result, err
		}
		result = append(result, x)
	}
	return result, scanner.Err()
}
