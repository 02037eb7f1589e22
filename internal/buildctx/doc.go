// SPDX-License-Identifier: MPL-2.0

// Package buildctx assembles the directory handed to the container engine:
// the verbatim source tree plus the rendered Dockerfile, which lives next to
// the context rather than inside it so that "COPY . ." never picks it up.
package buildctx
