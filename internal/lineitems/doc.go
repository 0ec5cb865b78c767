// Package lineitems reads invoice line items from CSV or YAML files for the audit command.
package lineitems
