/*
Package singleton implements SingletonGuard: an advisory exclusive lock
on <project>/.agent-relay/broker.lock, held for the process lifetime.
Acquire fails fast with ErrAlreadyRunning rather than blocking, since a
second broker instance starting against a project already under
management is a startup-time configuration mistake, not a condition
worth waiting out.
*/
package singleton
