// Package cloudvision calls the remote vision-language model used when local
// detection is not confident enough. Every call costs real money, so the
// client validates responses strictly, reports the provider's actual charge in
// integer cents, and enforces a cooldown after timeouts.
package cloudvision
