// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package options

// FindOptions represents arguments that can be used to configure a Find
// operation.
type FindOptions struct {
	// BatchSize is the per-reply batch size hint sent with the initial
	// find and every subsequent getMore. When unset, find sends no hint and
	// the server picks the first batch; each getMore then asks for the size
	// of the previous batch.
	BatchSize *int32

	// Limit is the maximum total number of documents the cursor returns.
	Limit *int64
}

// FindOptionsBuilder contains options to configure a find operation. Each
// option can be set through setter functions. See documentation for each
// setter function for an explanation of the option.
type FindOptionsBuilder struct {
	Opts []func(*FindOptions) error
}

// Find creates a new FindOptionsBuilder instance.
func Find() *FindOptionsBuilder {
	return &FindOptionsBuilder{}
}

// OptionsSetters returns a list of FindOptions setter functions.
func (f *FindOptionsBuilder) OptionsSetters() []func(*FindOptions) error {
	return f.Opts
}

// SetBatchSize sets the value for the BatchSize field.
func (f *FindOptionsBuilder) SetBatchSize(i int32) *FindOptionsBuilder {
	f.Opts = append(f.Opts, func(opts *FindOptions) error {
		opts.BatchSize = &i
		return nil
	})
	return f
}

// SetLimit sets the value for the Limit field.
func (f *FindOptionsBuilder) SetLimit(i int64) *FindOptionsBuilder {
	f.Opts = append(f.Opts, func(opts *FindOptions) error {
		opts.Limit = &i
		return nil
	})
	return f
}

// InsertManyOptions represents arguments that can be used to configure an
// InsertMany operation.
type InsertManyOptions struct {
	// If false, the server keeps applying later documents after one fails.
	// The default value is true.
	Ordered *bool
}

// InsertManyOptionsBuilder contains options to configure insert operations.
type InsertManyOptionsBuilder struct {
	Opts []func(*InsertManyOptions) error
}

// InsertMany creates a new InsertManyOptionsBuilder instance.
func InsertMany() *InsertManyOptionsBuilder {
	return &InsertManyOptionsBuilder{}
}

// OptionsSetters returns a list of InsertManyOptions setter functions.
func (i *InsertManyOptionsBuilder) OptionsSetters() []func(*InsertManyOptions) error {
	return i.Opts
}

// SetOrdered sets the value for the Ordered field.
func (i *InsertManyOptionsBuilder) SetOrdered(b bool) *InsertManyOptionsBuilder {
	i.Opts = append(i.Opts, func(opts *InsertManyOptions) error {
		opts.Ordered = &b
		return nil
	})
	return i
}
