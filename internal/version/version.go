// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

// Package version reports the library identity attached to emitted telemetry.
package version

// Name identifies this library in overflow payloads and diagnostics.
const Name = "tracelift-go"

// Tag specifies the current release tag. It needs to be manually updated.
const Tag = "v0.3.0"
