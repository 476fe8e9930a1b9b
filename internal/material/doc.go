// Package material holds the compiled-in material enumeration, the static
// material→profile table, and the randomized classifier that stands in for
// the detector and ML stages of the conveyor.
package material
