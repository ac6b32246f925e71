// Package formwizard ties the onboarding wizard to a client session. A
// Session owns one wizard with its persistence, language and push
// subscribers; BuildView renders it for display, and MessageRouter applies
// client intents to it.
package formwizard
