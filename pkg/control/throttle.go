package control

// Throttle is the throttle law: 1 - steering² - (speed/limit)².
// The result is not clamped; negative values mean braking.
func Throttle(steeringAngle, speed, speedLimit float64) float64 {
	ratio := speed / speedLimit
	return 1.0 - steeringAngle*steeringAngle - ratio*ratio
}
