// Package subscriptions manages the subscription lifecycle (subscribe, change plan,
// deactivate, delete) and runs the periodic integrity sweep that reports
// subscriptions whose plan no longer exists.
package subscriptions
