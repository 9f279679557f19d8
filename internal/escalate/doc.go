// Package escalate routes uncertain frames to the cloud vision model under
// the control of the daily budget guard. A denied reservation is a final
// answer for that frame: the controller degrades to the local analysis
// instead of retrying the cloud.
package escalate
