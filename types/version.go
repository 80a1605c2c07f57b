package types

// Version is the canonical Frostband version.
// The CLI and the progress frame contract share this version.
const Version = "0.4.0"

// FrameContractVersion is the progress frame contract version.
const FrameContractVersion = "0.1.0"
