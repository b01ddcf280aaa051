// Package vehicle exposes grouped views of the parameter cache: servo
// outputs, serial ports and the airframe. Views read snapshots and write
// through the synchronizer; they never touch the link.
package vehicle
