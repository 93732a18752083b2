// Package analysis extracts measurements from decoded A-scans.
//
// For each A-scan the processor reports the peak absolute amplitude and
// its position, the RMS level, and a time-of-flight estimate: the first
// sample crossing a threshold defined as a fraction of the peak. Sample
// indices convert to microseconds through the instrument's sampling
// frequency.
package analysis
